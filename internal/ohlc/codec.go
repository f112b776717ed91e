package ohlc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// ArchiveExtension is the file extension of serialized archives.
const ArchiveExtension = ".zrk"

// ArchiveFileName returns the archive file name for a root symbol.
func ArchiveFileName(symbol string) string {
	return symbol + ArchiveExtension
}

var archiveMagic = [4]byte{'Z', 'R', 'K', '1'}

const maxSymbolLength = 64

// ErrBadMagic indicates that a file is not a serialized archive.
var ErrBadMagic = errors.New("not an archive: bad magic")

// EncodeRaw serializes a raw archive to its uncompressed binary form. Records
// are length-prefixed so a reader can skip a malformed body without losing the
// frame.
func EncodeRaw(raw *RawArchive) []byte {
	var buffer bytes.Buffer
	buffer.Write(archiveMagic[:])
	writeUint16(&buffer, raw.IntradayMinutes)
	encodeRecords(&buffer, raw.Daily)
	encodeRecords(&buffer, raw.Intraday)
	return buffer.Bytes()
}

func encodeRecords(buffer *bytes.Buffer, records []RawRecord) {
	writeUint32(buffer, uint32(len(records)))
	var body bytes.Buffer
	for i := range records {
		body.Reset()
		encodeRecordBody(&body, &records[i])
		writeUint16(buffer, uint16(body.Len()))
		buffer.Write(body.Bytes())
	}
}

func encodeRecordBody(body *bytes.Buffer, record *RawRecord) {
	writeUint16(body, uint16(len(record.Symbol)))
	body.WriteString(record.Symbol)
	writeUint64(body, uint64(record.Time.Unix()))
	for _, price := range []float64{record.Open, record.High, record.Low, record.Close} {
		writeUint64(body, math.Float64bits(price))
	}
	writeUint32(body, record.Volume)
	if record.OpenInterest != nil {
		body.WriteByte(1)
		writeUint32(body, *record.OpenInterest)
	} else {
		body.WriteByte(0)
		writeUint32(body, 0)
	}
}

// DecodeRaw deserializes a raw archive from its uncompressed binary form.
// Individual malformed record bodies are skipped with a warning; a damaged
// frame or a truncated payload is an error.
func DecodeRaw(data []byte) (*RawArchive, error) {
	reader := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(reader, magic[:]); err != nil {
		return nil, fmt.Errorf("archive header: %w", err)
	}
	if magic != archiveMagic {
		return nil, ErrBadMagic
	}
	intradayMinutes, err := readUint16(reader)
	if err != nil {
		return nil, fmt.Errorf("archive header: %w", err)
	}
	daily, err := decodeRecords(reader)
	if err != nil {
		return nil, fmt.Errorf("daily records: %w", err)
	}
	intraday, err := decodeRecords(reader)
	if err != nil {
		return nil, fmt.Errorf("intraday records: %w", err)
	}
	raw := &RawArchive{
		Daily:           daily,
		Intraday:        intraday,
		IntradayMinutes: intradayMinutes,
	}
	return raw, nil
}

func decodeRecords(reader *bytes.Reader) ([]RawRecord, error) {
	count, err := readUint32(reader)
	if err != nil {
		return nil, err
	}
	records := make([]RawRecord, 0, count)
	skipped := 0
	for i := uint32(0); i < count; i++ {
		bodyLength, err := readUint16(reader)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		body := make([]byte, bodyLength)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		record, err := decodeRecordBody(body)
		if err != nil {
			skipped++
			log.Warn().Err(err).Uint32("record", i).Msg("Skipping malformed archive record")
			continue
		}
		records = append(records, record)
	}
	if skipped > 0 {
		log.Warn().Int("count", skipped).Msg("Skipped malformed archive records")
	}
	return records, nil
}

func decodeRecordBody(body []byte) (RawRecord, error) {
	reader := bytes.NewReader(body)
	symbolLength, err := readUint16(reader)
	if err != nil {
		return RawRecord{}, err
	}
	if symbolLength == 0 || symbolLength > maxSymbolLength {
		return RawRecord{}, fmt.Errorf("implausible symbol length %d", symbolLength)
	}
	symbol := make([]byte, symbolLength)
	if _, err := io.ReadFull(reader, symbol); err != nil {
		return RawRecord{}, err
	}
	seconds, err := readUint64(reader)
	if err != nil {
		return RawRecord{}, err
	}
	var prices [4]float64
	for i := range prices {
		bits, err := readUint64(reader)
		if err != nil {
			return RawRecord{}, err
		}
		price := math.Float64frombits(bits)
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return RawRecord{}, errors.New("non-finite price")
		}
		prices[i] = price
	}
	volume, err := readUint32(reader)
	if err != nil {
		return RawRecord{}, err
	}
	flag, err := reader.ReadByte()
	if err != nil {
		return RawRecord{}, err
	}
	openInterestValue, err := readUint32(reader)
	if err != nil {
		return RawRecord{}, err
	}
	record := RawRecord{
		Symbol: string(symbol),
		Time:   time.Unix(int64(seconds), 0).UTC(),
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume,
	}
	if flag != 0 {
		record.OpenInterest = &openInterestValue
	}
	return record, nil
}

// WriteArchiveFile serializes a raw archive and writes it zstd-compressed.
func WriteArchiveFile(path string, raw *RawArchive) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", path, err)
	}
	defer file.Close()
	writer, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := writer.Write(EncodeRaw(raw)); err != nil {
		writer.Close()
		return fmt.Errorf("write archive %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush archive %s: %w", path, err)
	}
	return nil
}

// ReadRawArchiveFile reads and decompresses a raw archive from disk without
// deriving it.
func ReadRawArchiveFile(path string) (*RawArchive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer file.Close()
	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress archive %s: %w", path, err)
	}
	raw, err := DecodeRaw(data)
	if err != nil {
		return nil, fmt.Errorf("decode archive %s: %w", path, err)
	}
	return raw, nil
}

// ReadArchiveFile loads a raw archive from disk and runs continuous-contract
// construction on it.
func ReadArchiveFile(path string, skipFrontContract bool) (*Archive, error) {
	raw, err := ReadRawArchiveFile(path)
	if err != nil {
		return nil, err
	}
	archive, err := raw.Derive(skipFrontContract)
	if err != nil {
		return nil, fmt.Errorf("derive archive %s: %w", path, err)
	}
	return archive, nil
}

func writeUint16(buffer *bytes.Buffer, value uint16) {
	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], value)
	buffer.Write(scratch[:])
}

func writeUint32(buffer *bytes.Buffer, value uint32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], value)
	buffer.Write(scratch[:])
}

func writeUint64(buffer *bytes.Buffer, value uint64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], value)
	buffer.Write(scratch[:])
}

func readUint16(reader *bytes.Reader) (uint16, error) {
	var scratch [2]byte
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(scratch[:]), nil
}

func readUint32(reader *bytes.Reader) (uint32, error) {
	var scratch [4]byte
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(scratch[:]), nil
}

func readUint64(reader *bytes.Reader) (uint64, error) {
	var scratch [8]byte
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(scratch[:]), nil
}
