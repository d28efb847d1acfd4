// Package output assembles the rendered images of one output file and
// hands them to the writer.
//
// An output type decides how many images a file holds and how they are
// written. Extra layers (psf, weight, badpix) go either into further HDUs
// of the main file or into files of their own.
package output
