// Package block defines block descriptors, their statuses and the registry
// assigning them stable ids.
package block
