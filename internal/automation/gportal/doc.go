// Package gportal implements automation.Session for the G-Portal web panel on
// top of a Selenium/WebDriver hub.
//
// WebDriver calls are synchronous HTTP requests without context support.
// Each step therefore runs on its own goroutine; the caller's context bounds
// how long we wait for it and the shared HTTP client timeout bounds how long
// the goroutine can outlive a cancellation.
package gportal
