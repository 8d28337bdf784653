// Package startup handles process initialization: environment-driven
// configuration with logged values and validated bounds, plus build
// information injected at link time.
package startup
