// Package relay implements a single-threaded, readiness-driven TCP text
// relay. One event-loop goroutine owns the listener, the connection registry
// and every accepted socket; readiness events drive accept, drain and
// teardown with no shared state between goroutines.
//
// Linux only: the loop is built directly on epoll, so the package does not
// build on other platforms.
package relay
