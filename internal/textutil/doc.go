// Package textutil derives display names and filesystem-safe tokens from
// asset file names.
package textutil
