package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// MaxDocumentBytes caps the size of a single stored document.
const MaxDocumentBytes = 1 << 20

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type S3Options struct {
	Bucket string
	// Prefix is prepended to every key: {prefix}/{collection}/{id}.json
	Prefix string
}

// S3 stores each document as one JSON object.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

func NewS3(client S3API, opts S3Options) (*S3, error) {
	if client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	return &S3{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

func (s *S3) collectionPrefix(collection string) string {
	if s.prefix == "" {
		return collection + "/"
	}
	return s.prefix + "/" + collection + "/"
}

func (s *S3) key(collection, id string) string {
	return s.collectionPrefix(collection) + id + ".json"
}

func (s *S3) Get(ctx context.Context, collection, id string) (Document, error) {
	if !validName(collection) || !validName(id) {
		return Document{}, ErrNotFound
	}
	data, err := s.read(ctx, s.key(collection, id))
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: data}, nil
}

func (s *S3) read(ctx context.Context, key string) (json.RawMessage, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "get s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, MaxDocumentBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", s.bucket, key)
	}
	if len(b) > MaxDocumentBytes {
		return nil, xerrors.Newf("s3://%s/%s exceeds %d bytes", s.bucket, key, MaxDocumentBytes)
	}
	if !json.Valid(b) {
		return nil, xerrors.Newf("s3://%s/%s is not valid json", s.bucket, key)
	}
	return json.RawMessage(b), nil
}

func (s *S3) List(ctx context.Context, collection string) ([]Document, error) {
	if !validName(collection) {
		return nil, nil
	}
	prefix := s.collectionPrefix(collection)

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(err, "list s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range page.Contents {
			k := aws.ToString(obj.Key)
			rest := strings.TrimPrefix(k, prefix)
			// direct children only
			if strings.Contains(rest, "/") || path.Ext(rest) != ".json" {
				continue
			}
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	docs := make([]Document, 0, len(keys))
	for _, k := range keys {
		data, err := s.read(ctx, k)
		if errors.Is(err, ErrNotFound) {
			// deleted between list and get
			continue
		}
		if err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, prefix), ".json")
		docs = append(docs, Document{ID: id, Data: data})
	}
	return docs, nil
}

func (s *S3) Put(ctx context.Context, collection, id string, data json.RawMessage) error {
	if !validName(collection) || !validName(id) {
		return xerrors.Newf("invalid document path %q/%q", collection, id)
	}
	if len(data) > MaxDocumentBytes {
		return xerrors.Newf("document %s/%s exceeds %d bytes", collection, id, MaxDocumentBytes)
	}
	if !json.Valid(data) {
		return xerrors.Newf("document %s/%s is not valid json", collection, id)
	}
	key := s.key(collection, id)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return nil
}

func (s *S3) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return xerrors.Wrapf(err, "head bucket %s", s.bucket)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

var _ Store = (*S3)(nil)
