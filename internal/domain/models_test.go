package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpoint_CarriesBody(t *testing.T) {
	cases := map[string]bool{
		"GET": false, "post": true, "PUT": true, "PATCH": true, "DELETE": false, "HEAD": false,
	}
	for method, want := range cases {
		e := Endpoint{Method: method}
		assert.Equal(t, want, e.CarriesBody(), method)
	}
}

func TestEndpoint_Interval(t *testing.T) {
	e := Endpoint{CheckInterval: 30}
	assert.Equal(t, 30*time.Second, e.Interval())
}
