//Package external is a placeholder for external directives that are known to caddy and made availible for general use.
//
//Each directive has a placeholder in caddy/directives.go, and an initializer file in this package. If the build tags are satisfied, the directive will
//be "activated" in caddy's directive stack.
package external
