// Package kinds implements engine.Kind for every remote resource kind.
//
// Service kinds (database, auth, idp, pipeline) own one sub-resource kind
// each, namespaced by the service name. They are provided together with
// their sub-resources in the provide-dependencies phase, shed stale
// sub-resources in shed-sub-resources and delete the services themselves in
// delete-services. Database type updates that drop or retype a field are
// rejected while planning unless the schema check is skipped.
//
// Static websites are provided with the services and deleted in
// delete-static-sites. Executors and workflows need the gateway and run in
// provide-dependents and delete-dependents.
//
// The application kind is the gateway. Its specification references every
// declared service; CORS origins of the form "site:<name>" are resolved to
// the static site's URL when the gateway is written. It also deletes the
// records of applications left empty by a rename.
package kinds
