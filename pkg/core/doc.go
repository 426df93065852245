// Package core implements the Basis/Project lifecycle: the owner of
// plugin factories, dynamic function invocation, component
// specialization, persistence through a serverclient.Client, and
// cascading resource closure described by spec.md section 4.E/4.F.
//
// A Basis is the root scope: constructed via NewBasis with functional
// Options, it resolves or inserts its server-side record, seeds its
// Dynamic Invoker mapper list, loads configuration, and registers a
// self-save Closer before returning ready for Init/Run/LoadProject.
// Projects are child scopes of exactly one Basis, created via
// Basis.LoadProject, owning Targets the same way.
package core
