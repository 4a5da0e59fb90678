package job

import (
	"context"

	"github.com/xxxsen/casememo/internal/service"
)

type CaseIndexJob struct {
	index *service.IndexService
}

func NewCaseIndexJob(index *service.IndexService) *CaseIndexJob {
	return &CaseIndexJob{index: index}
}

func (j *CaseIndexJob) Name() string {
	return "case_index"
}

func (j *CaseIndexJob) Run(ctx context.Context) error {
	if j.index == nil {
		return nil
	}
	_, err := j.index.RebuildAll(ctx)
	return err
}
