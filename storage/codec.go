package storage

import (
	"fmt"

	"github.com/bytedance/sonic"

	"tasklist/domain"
)

// encodeTasks renders the collection as a JSON array, the same shape the
// browser client kept under its storage key.
func encodeTasks(tasks []domain.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return sonic.Marshal(tasks)
}

// decodeTasks parses a stored payload. Anything that is not an array of valid
// tasks is reported as domain.ErrCorruptPayload.
func decodeTasks(data []byte) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptPayload, err)
	}
	if tasks == nil {
		return nil, fmt.Errorf("%w: payload is not a task array", domain.ErrCorruptPayload)
	}
	if err := domain.ValidateCollection(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
