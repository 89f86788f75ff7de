package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/orchestrator"
)

// DefaultLanguages is the execution allow-list used when none is configured.
var DefaultLanguages = []string{"java", "python", "javascript"}

// DefaultMaxCodeBytes keeps submissions inside the orchestrator's 8 KiB
// override payload.
const DefaultMaxCodeBytes = 8000

// ExecutionService validates execution requests and hands them to the orchestrator.
type ExecutionService interface {
	Dispatch(ctx context.Context, ownerID, code, language string) (domain.JobHandle, error)
	Languages() []string
}

type ExecutionConfig struct {
	Languages     []string
	MaxCodeBytes  int
	SubmitTimeout time.Duration
	Logger        logrus.FieldLogger
}

type executionService struct {
	orchestrator orchestrator.Orchestrator
	languages    []string
	cfg          ExecutionConfig
}

func NewExecutionService(orch orchestrator.Orchestrator, cfg ExecutionConfig) ExecutionService {
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = DefaultMaxCodeBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	var languages []string
	for _, l := range cfg.Languages {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" && !slices.Contains(languages, l) {
			languages = append(languages, l)
		}
	}
	if len(languages) == 0 {
		languages = slices.Clone(DefaultLanguages)
	}

	return &executionService{
		orchestrator: orch,
		languages:    languages,
		cfg:          cfg,
	}
}

func (s *executionService) Dispatch(ctx context.Context, ownerID, code, language string) (domain.JobHandle, error) {
	if code == "" {
		return "", invalid("code", "must not be empty")
	}
	if len(code) > s.cfg.MaxCodeBytes {
		return "", invalid("code", fmt.Sprintf("must be at most %d bytes", s.cfg.MaxCodeBytes))
	}
	// only allow-listed values may reach the orchestrator environment
	language = strings.ToLower(strings.TrimSpace(language))
	if !slices.Contains(s.languages, language) {
		return "", invalid("language", "must be one of "+strings.Join(s.languages, ", "))
	}

	submitCtx, cancel := withTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	handle, err := s.orchestrator.Submit(submitCtx, domain.JobSpec{
		OwnerID:  ownerID,
		Language: language,
		Code:     code,
	})
	if err != nil {
		s.cfg.Logger.WithError(err).WithFields(logrus.Fields{
			"owner_id": ownerID,
			"language": language,
		}).Error("execution dispatch failed")
		return "", collaboratorError(ErrDispatch, "submit job", err)
	}

	s.cfg.Logger.WithFields(logrus.Fields{
		"owner_id":   ownerID,
		"language":   language,
		"job_handle": string(handle),
	}).Info("execution job dispatched")
	return handle, nil
}

func (s *executionService) Languages() []string {
	return slices.Clone(s.languages)
}
