// Package file provides a file-based persistence implementation for single-node deployments.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root           string
	automationRepo *AutomationRepository
	enrollmentRepo *EnrollmentRepository
	logRepo        *ExecutionLogRepository
	recordRepo     *RecordRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		automationRepo: NewAutomationRepository(cleanRoot),
		enrollmentRepo: NewEnrollmentRepository(cleanRoot),
		logRepo:        NewExecutionLogRepository(cleanRoot, persistence.DefaultLogRetention),
		recordRepo:     NewRecordRepository(cleanRoot),
	}
}

func (fp *Persistence) Automations() persistence.AutomationRepository {
	return fp.automationRepo
}

func (fp *Persistence) Enrollments() persistence.EnrollmentRepository {
	return fp.enrollmentRepo
}

func (fp *Persistence) ExecutionLogs() persistence.ExecutionLogRepository {
	return fp.logRepo
}

func (fp *Persistence) Records() persistence.RecordRepository {
	return fp.recordRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}
