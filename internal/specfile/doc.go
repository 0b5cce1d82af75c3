// Package specfile parses YAML stage definitions into a pipeline spec.
//
// A spec file lists stages in declaration order:
//
//	stages:
//	  - name: deps
//	    command: install-deps
//	    inputs:
//	      - kind: file
//	        value: manifest.lock
//	  - name: compile
//	    parent: deps
//	    command: compile
//	    inputs:
//	      - kind: artifact
//	      - kind: file
//	        value: src/main.c
//
// Only document-level validation happens here; graph-level rules (unique
// names, known parents, acyclicity) are enforced by the graph package.
package specfile
