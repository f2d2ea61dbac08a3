// Package tables registers the accepted input schemas with the core registry.
// Import this package for its side effects to make every schema available:
//
//	import _ "github.com/JonMunkholm/csvrefinery/internal/core/tables"
package tables
