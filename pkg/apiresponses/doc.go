// Package apiresponses provides the JSON response bodies of the intake API,
// shared with middleware packages without import cycles.
package apiresponses
