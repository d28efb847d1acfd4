// Package sequence assigns file, image and object numbers to every output
// file before any of them is built.
//
// Numbers come only from iterating file indices in order, never from task
// results, so a value driven by obj_num or image_num is the same whatever
// the number of workers and whatever order they finish in.
package sequence

import (
	"context"
	"fmt"
)

// FileCounter reports the object count of each image of one file. The
// file's first image and object numbers are given because counts may
// themselves depend on them.
type FileCounter interface {
	FileObjects(ctx context.Context, fileNum, imageStart, objStart int) ([]int, error)
}

// CounterFunc adapts a function to FileCounter.
type CounterFunc func(ctx context.Context, fileNum, imageStart, objStart int) ([]int, error)

// FileObjects implements FileCounter.
func (f CounterFunc) FileObjects(ctx context.Context, fileNum, imageStart, objStart int) ([]int, error) {
	return f(ctx, fileNum, imageStart, objStart)
}

// Range is the block of numbers one file owns.
type Range struct {
	FileNum    int
	ImageStart int
	ObjStart   int
	// NObj holds the object count of each image in the file.
	NObj []int
}

// NImages returns the number of images in the file.
func (r Range) NImages() int { return len(r.NObj) }

// NObjects returns the number of objects in the file.
func (r Range) NObjects() int {
	n := 0
	for _, c := range r.NObj {
		n += c
	}
	return n
}

// ImageObjStart returns the first object number of image i of the file.
func (r Range) ImageObjStart(i int) int {
	start := r.ObjStart
	for _, c := range r.NObj[:i] {
		start += c
	}
	return start
}

// Plan computes the ranges of files 0..nfiles-1. The starts of file N are
// the totals of files 0..N-1.
func Plan(ctx context.Context, nfiles int, counter FileCounter) ([]Range, error) {
	if nfiles < 0 {
		return nil, fmt.Errorf("number of files must not be negative, got %d", nfiles)
	}

	ranges := make([]Range, 0, nfiles)
	imageNum, objNum := 0, 0
	for fileNum := 0; fileNum < nfiles; fileNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nobj, err := counter.FileObjects(ctx, fileNum, imageNum, objNum)
		if err != nil {
			return nil, fmt.Errorf("failed to count objects of file %d: %w", fileNum, err)
		}
		for i, n := range nobj {
			if n < 0 {
				return nil, fmt.Errorf("file %d image %d: object count must not be negative, got %d", fileNum, i, n)
			}
		}

		r := Range{FileNum: fileNum, ImageStart: imageNum, ObjStart: objNum, NObj: append([]int(nil), nobj...)}
		ranges = append(ranges, r)
		imageNum += r.NImages()
		objNum += r.NObjects()
	}
	return ranges, nil
}
