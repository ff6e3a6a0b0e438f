// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"rag-service-go/internal/config"
	"rag-service-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

// PutDocument 将上传的原始文件写入对象存储。
func PutDocument(ctx context.Context, bucketName, objectKey string, data []byte, contentType string) error {
	_, err := MinioClient.PutObject(ctx, bucketName, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Errorf("写入对象存储失败, object: %s, error: %v", objectKey, err)
		return fmt.Errorf("写入对象存储失败: %w", err)
	}
	return nil
}

// FetchDocument 读出之前存入的原始文件。对象不存在时返回错误，由摄取侧
// 将文档标记为 failed。
func FetchDocument(ctx context.Context, bucketName, objectKey string) ([]byte, error) {
	obj, err := MinioClient.GetObject(ctx, bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象存储失败: %w", err)
	}
	defer obj.Close()

	// GetObject 为惰性调用，错误在首次 Read 时才出现
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象内容失败: %w", err)
	}
	return data, nil
}

// Ping 探测对象存储可用性，供健康检查使用。
func Ping(ctx context.Context, bucketName string) error {
	if MinioClient == nil {
		return fmt.Errorf("minio 客户端未初始化")
	}
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("存储桶 '%s' 不存在", bucketName)
	}
	return nil
}
