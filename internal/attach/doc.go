// Package attach binds host years to a clone and engine.
//
// Each host year has at most one attachment per scope. Current-user records
// live in the user registry and all-users records in the machine registry;
// writing the latter requires an elevated process. Lookups check the user
// scope before the machine scope.
//
// An engine is chosen by selector: an explicit engine id or version,
// "latest" for the highest version in the clone, or "dynamosafe" for the
// highest version compatible with the Dynamo integration.
package attach
