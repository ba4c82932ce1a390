// Package adapter turns the tools of a live session into framework-neutral
// capabilities.
//
// A Capability carries a tool's name, description and input schema and
// invokes the tool through the session, flattening the result to text. Every
// framework binding builds on capabilities instead of on the session, so
// none of them re-implement discovery or invocation.
package adapter
