// Package deploy resolves task references to deployed task definitions.
// Every resolution returns a reference-counted Handle; a definition that is
// undeployed while still in use stays alive until its last handle is
// released.
package deploy
