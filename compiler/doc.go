/*

Mid-end of the pipeline

IR Text ->
	parse ->
Intermediate Representation (ir) ->
	dce ->
Intermediate Representation (ir) ->
	format ->
IR Text

Earlier and later stages (frontend, codegen, pass manager) live outside
this module; they hand over a well-formed ir.Module and take one back.

*/
package compiler
