// Package fs abstracts the file system behind the region engine so tests
// can inject IO failures deterministically.
package fs
