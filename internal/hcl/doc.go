// Package hcl loads job configuration trees from HCL files.
//
// Attributes become values and blocks become nested maps. A block's single
// label, if any, becomes its "type" key, so
//
//	output "DataCube" {
//	  nimages = 10
//	}
//
// is the same as output = { type = "DataCube", nimages = 10 }. Blocks of
// the same type repeated at one level form a list.
package hcl
