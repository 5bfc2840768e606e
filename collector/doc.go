// Package collector implements the provenance collection core: the
// activation stack, dependency scopes, value interning, the assignment
// and parameter-matching engines, and the hook surface transformed host
// code calls into as it runs. It owns nothing about how a program is
// instrumented to call these hooks, and nothing about how the resulting
// records reach durable storage beyond the store.Persistence boundary.
package collector
