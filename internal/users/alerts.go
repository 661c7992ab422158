package users

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"shopmetrics/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type SNSAPI interface {
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Alerts manages the per-user SNS topic stored on the Users table row
// (PK = USER#<sub>).
type Alerts struct {
	DDB   db.Client
	SNS   SNSAPI
	Table string
	Stage string
	Now   func() time.Time
}

func NewAlerts(c db.Client, s SNSAPI, usersTable, stage string) *Alerts {
	if strings.TrimSpace(stage) == "" {
		stage = "dev"
	}
	return &Alerts{DDB: c, SNS: s, Table: usersTable, Stage: stage, Now: time.Now}
}

func shortHashSub(sub string) string {
	h := sha1.Sum([]byte(sub))
	// 8 bytes -> 16 hex chars, stable and short
	return hex.EncodeToString(h[:8])
}

// TopicName is the SNS topic for a user. SNS names allow no slashes.
func (a *Alerts) TopicName(sub string) string {
	return fmt.Sprintf("shopmetrics-user-alerts-%s-%s", a.Stage, shortHashSub(sub))
}

// EnsureEmailAlerts creates the user's topic and email subscription once and
// records the topic on the Users row. The user confirms the subscription from
// the email SNS sends.
func (a *Alerts) EnsureEmailAlerts(ctx context.Context, sub, email string) (string, error) {
	sub = strings.TrimSpace(sub)
	email = strings.TrimSpace(email)
	if sub == "" || email == "" || strings.TrimSpace(a.Table) == "" {
		return "", nil
	}

	existing, err := a.TopicArn(ctx, sub)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	ct, err := a.SNS.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(a.TopicName(sub)),
	})
	if err != nil {
		return "", fmt.Errorf("sns CreateTopic: %w", err)
	}
	topicArn := aws.ToString(ct.TopicArn)

	_, err = a.SNS.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicArn),
		Protocol: aws.String("email"),
		Endpoint: aws.String(email),
	})
	if err != nil {
		return "", fmt.Errorf("sns Subscribe: %w", err)
	}

	_, err = a.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.Table),
		Item: map[string]types.AttributeValue{
			"PK":             db.S(db.UserPK(sub)),
			"Email":          db.S(email),
			"AlertsTopicArn": db.S(topicArn),
			"UpdatedAt":      db.S(a.Now().UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("save alerts topic: %w", err)
	}
	return topicArn, nil
}

// TopicArn returns "" when the user never enabled alerts.
func (a *Alerts) TopicArn(ctx context.Context, sub string) (string, error) {
	if strings.TrimSpace(a.Table) == "" || strings.TrimSpace(sub) == "" {
		return "", nil
	}
	out, err := a.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(a.Table),
		Key: map[string]types.AttributeValue{
			"PK": db.S(db.UserPK(sub)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("users GetItem: %w", err)
	}
	if out.Item == nil {
		return "", nil
	}
	return db.AttrS(out.Item["AlertsTopicArn"]), nil
}

// Publish sends one message to each user's topic and returns how many went
// out. Users without a topic are skipped.
func (a *Alerts) Publish(ctx context.Context, subs []string, subject, message string) (int, error) {
	sent := 0
	var firstErr error
	for _, sub := range subs {
		arn, err := a.TopicArn(ctx, sub)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if strings.TrimSpace(arn) == "" {
			continue
		}
		_, err = a.SNS.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(arn),
			Subject:  aws.String(subject),
			Message:  aws.String(message),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sns Publish: %w", err)
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}
