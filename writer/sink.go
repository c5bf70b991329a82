package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "formulaflow/config"
)

// SeriesRecord is one parquet row: a single interval of a calculated series.
type SeriesRecord struct {
	TimeSeriesID  string  `parquet:"name=time_series_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	LocationID    string  `parquet:"name=location_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CalculationID string  `parquet:"name=calculation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimeSliceID   int64   `parquet:"name=time_slice_id, type=INT64"`
	Position      int64   `parquet:"name=position, type=INT64"`
	Start         string  `parquet:"name=start, type=BYTE_ARRAY, convertedtype=UTF8"`
	End           string  `parquet:"name=end, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity      float64 `parquet:"name=quantity, type=DOUBLE"`
	Quality       string  `parquet:"name=quality, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// sink stores an encoded batch of records under key and returns the size written.
type sink interface {
	write(ctx context.Context, key string, records []SeriesRecord) (int64, error)
	name() string
}

// memoryFileWriter implements source.ParquetFile for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the current size; the parquet writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

func encodeRecords(fw source.ParquetFile, records []SeriesRecord) error {
	pw, err := writer.NewParquetWriter(fw, new(SeriesRecord), 1)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if err := pw.Write(r); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

type s3Sink struct {
	client  *s3.Client
	bucket  string
	version string
}

func newS3Sink(ctx context.Context, cfg *appconfig.Config) (*s3Sink, error) {
	s3cfg := cfg.Storage.S3

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKeyID, s3cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		o.UsePathStyle = s3cfg.PathStyle
	})

	return &s3Sink{client: client, bucket: s3cfg.Bucket, version: cfg.Service.Version}, nil
}

func (s *s3Sink) name() string { return "s3://" + s.bucket }

func (s *s3Sink) write(ctx context.Context, key string, records []SeriesRecord) (int64, error) {
	fw := newMemoryFileWriter()
	if err := encodeRecords(fw, records); err != nil {
		return 0, err
	}
	data := fw.Bytes()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":        "parquet",
			"compression":         "snappy",
			"formulaflow-version": s.version,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	return int64(len(data)), nil
}

type localSink struct {
	dir string
}

func (s *localSink) name() string { return s.dir }

func (s *localSink) write(_ context.Context, key string, records []SeriesRecord) (int64, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	if err := encodeRecords(fw, records); err != nil {
		fw.Close()
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
