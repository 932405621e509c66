// Package config loads the desired state of an application.
//
// # Overview
//
// An application is declared once, in one of four formats chosen by file
// extension:
//
//   - YAML (.yaml, .yml) and JSON (.json), decoded strictly: unknown fields
//     are errors.
//   - CUE (.cue, or a directory holding one CUE package). The top-level
//     "app" field is unified with the built-in #App schema before decoding.
//   - Starlark (.star). The script must bind a global named "app" to a dict
//     shaped like AppConfig. Scripts run with a timeout and cannot print.
//
// Every format is validated the same way afterwards: field rules declared
// with validator tags, then cross-references (duplicate names, CORS origins
// naming undeclared static sites, workflow steps naming undeclared
// executors). Problems are reported together as one engine validation error
// before any remote call is made.
//
// # Usage Example
//
//	loader := config.NewLoader()
//	app, err := loader.Load(ctx, "converge.yaml")
//	if err != nil {
//	    return err
//	}
//
// # CORS origins
//
// A gateway CORS origin of the form "site:<name>" names a declared static
// website. It is resolved to the site's URL when the gateway is applied,
// after the site exists.
package config
