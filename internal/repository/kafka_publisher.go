package repository

import (
	"context"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	pkgkafka "CoinPull/pkg/kafka"
)

// reportProducer is the pkg/kafka producer surface used here.
type reportProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaReportPublisher publishes one JSON IngestReport per run, keyed by
// source so reports of one source stay ordered on a partition.
type KafkaReportPublisher struct {
	producer reportProducer
	topic    string
}

func NewKafkaReportPublisher(p reportProducer, topic string) *KafkaReportPublisher {
	return &KafkaReportPublisher{producer: p, topic: topic}
}

var _ domrepo.ReportPublisher = (*KafkaReportPublisher)(nil)

func (k *KafkaReportPublisher) PublishReport(ctx context.Context, r *models.IngestReport) error {
	return k.producer.PublishBatch(ctx, k.topic, []pkgkafka.Message{{
		Key:   []byte(r.Source),
		Value: r,
		Headers: map[string]string{
			"content-type": "application/json",
			"source":       r.Source,
		},
	}})
}

func (k *KafkaReportPublisher) Close() error { return k.producer.Close() }
