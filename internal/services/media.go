package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"click-backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadExpiry = 5 * time.Minute

// Presigner signs S3 uploads
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// NewS3Presigner creates a presign client from the AWS section of the
// configuration. Static keys and a custom endpoint are optional.
func NewS3Presigner(ctx context.Context, cfg config.AWSConfig) (*s3.PresignClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewPresignClient(client), nil
}

// MediaService hands out upload URLs for chat attachments
type MediaService struct {
	lifecycle *ConnectionLifecycle
	gate      *ChatGate
	presigner Presigner
	bucket    string
}

// NewMediaService creates a new media service
func NewMediaService(lifecycle *ConnectionLifecycle, gate *ChatGate, presigner Presigner, bucket string) *MediaService {
	return &MediaService{
		lifecycle: lifecycle,
		gate:      gate,
		presigner: presigner,
		bucket:    bucket,
	}
}

// UploadRequest represents a request to get a pre-signed URL
type UploadRequest struct {
	ContentType string `json:"content_type"`
}

// UploadResponse represents the response with pre-signed URL
type UploadResponse struct {
	UploadURL    string `json:"upload_url"`
	AttachmentID string `json:"attachment_id"`
	Key          string `json:"key"`
	ExpiresIn    int    `json:"expires_in"`
}

// GetUploadURL signs a PUT for a new attachment in a begun connection.
// Keys have the form {connection_id}/{attachment_id}.jpg.
func (s *MediaService) GetUploadURL(ctx context.Context, userID, connectionID, contentType string) (*UploadResponse, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, invalidInput("unsupported content type %q", contentType)
	}
	conn, err := s.lifecycle.ForParticipant(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanSend(conn); err != nil {
		return nil, err
	}

	attachmentID := uuid.New().String()
	key := fmt.Sprintf("%s/%s.jpg", conn.ID, attachmentID)

	request, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}

	return &UploadResponse{
		UploadURL:    request.URL,
		AttachmentID: attachmentID,
		Key:          key,
		ExpiresIn:    int(uploadExpiry.Seconds()),
	}, nil
}
