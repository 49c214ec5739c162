package discovery

import "testing"

func TestShutdownNilSafe(t *testing.T) {
	var a *Advertisement
	a.Shutdown() // must not panic

	a = &Advertisement{}
	a.Shutdown() // must not panic on a server-less Advertisement
}
