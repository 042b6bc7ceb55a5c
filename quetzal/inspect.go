package quetzal

import (
	"fmt"

	"github.com/chazu/autofrotz/zbyte"
	"github.com/chazu/autofrotz/zmachine"
)

// Chunk locates one chunk inside a save file.
type Chunk struct {
	ID     string
	Offset int64 // of the payload
	Size   uint32
}

// Header is the content of an IFhd chunk.
type Header struct {
	Release  uint16
	Serial   [6]byte
	Checksum uint16
	PC       uint32
}

// Matches reports whether the save file was written by the story h
// describes.
func (qh Header) Matches(h zmachine.Header) bool {
	return qh.Release == h.Release && qh.Serial == h.Serial && qh.Checksum == h.Checksum
}

// Chunks lists the chunks of a save file in file order without
// interpreting them.
func Chunks(data []byte) ([]Chunk, error) {
	r := zbyte.NewReader(data)
	form, err := readLong(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSaveFile, err)
	}
	formLen, err := readLong(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSaveFile, err)
	}
	formType, err := readLong(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotSaveFile, err)
	}
	if form != idFORM || formType != idIFZS {
		return nil, ErrNotSaveFile
	}
	if int64(formLen)+8 > int64(len(data)) {
		return nil, fmt.Errorf("%w: FORM claims %d bytes, file has %d", ErrCorrupt, formLen, len(data)-8)
	}

	end := int64(formLen) + 8
	var chunks []Chunk
	for r.Tell()+8 <= end {
		tag, err := readLong(r)
		if err != nil {
			return chunks, truncated("chunk header", err)
		}
		size, err := readLong(r)
		if err != nil {
			return chunks, truncated("chunk header", err)
		}
		c := Chunk{ID: tagString(tag), Offset: r.Tell(), Size: size}
		if c.Offset+int64(size) > end {
			return chunks, fmt.Errorf("%w: chunk %s runs past the end of the FORM", ErrCorrupt, c.ID)
		}
		chunks = append(chunks, c)
		if !r.SeekBy(int64(size) + int64(size&1)) {
			break
		}
	}
	return chunks, nil
}

// ReadHeader decodes the first IFhd chunk of a save file.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	chunks, err := Chunks(data)
	if err != nil {
		return h, err
	}
	for _, c := range chunks {
		if c.ID != "IFhd" {
			continue
		}
		if c.Size < IFhdSize {
			return h, fmt.Errorf("%w: IFhd is %d bytes", ErrCorrupt, c.Size)
		}
		b := data[c.Offset:]
		h.Release = uint16(b[0])<<8 | uint16(b[1])
		copy(h.Serial[:], b[2:8])
		h.Checksum = uint16(b[8])<<8 | uint16(b[9])
		h.PC = uint32(b[10])<<16 | uint32(b[11])<<8 | uint32(b[12])
		return h, nil
	}
	return h, fmt.Errorf("%w: no IFhd chunk", ErrMissingChunk)
}
