// Package gtypes defines the shared data model for galileo: worker and
// client identities, routing records, request/trace records, and the
// experiment scheduling types. It has no behavior, only the shapes other
// packages serialize to the coordination substrate and pass between
// goroutines.
package gtypes
