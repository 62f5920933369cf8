package remote

import (
	"github.com/specialistvlad/taskgrid/internal/digest"
)

// Blob is a piece of content together with its digest.
type Blob struct {
	Digest digest.Digest
	Data   []byte
}

// NewBlob computes the digest of data.
func NewBlob(data []byte) Blob {
	return Blob{Digest: digest.FromBytes(data), Data: data}
}

// Partition is a group of items transferred together. A streamed partition
// holds exactly one item that is too large for a batch request.
type Partition[T any] struct {
	Size   int64
	Stream bool
	Items  []T
}

// PartitionBySize groups items first-fit so that no batch exceeds maxSize.
// Items of maxSize or more go alone into a streamed partition. Item order is
// preserved within each partition.
func PartitionBySize[T any](items []T, maxSize int64, sizeOf func(T) int64) []*Partition[T] {
	var partitions []*Partition[T]

	for _, item := range items {
		size := sizeOf(item)
		if size >= maxSize {
			partitions = append(partitions, &Partition[T]{Size: size, Stream: true, Items: []T{item}})
			continue
		}

		placed := false
		for _, p := range partitions {
			if !p.Stream && p.Size+size <= maxSize {
				p.Items = append(p.Items, item)
				p.Size += size
				placed = true
				break
			}
		}
		if !placed {
			partitions = append(partitions, &Partition[T]{Size: size, Items: []T{item}})
		}
	}
	return partitions
}
