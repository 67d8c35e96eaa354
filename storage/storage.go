package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf16"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"tasklist/domain"
)

// DefaultSlotKey is the storage key used when none is configured.
const DefaultSlotKey = "tasks"

// TableSlot stores the collection as a single Azure Table entity whose
// partition and row key are both the slot key. Upserts replace the entity as a
// whole.
//
// The encoded collection lives in one string property, which Azure caps at
// 64 KiB (32K UTF-16 characters). A save whose payload exceeds that fails with
// a PersistenceError wrapping errSlotTooLarge and leaves the stored entity
// as it was. Collections with many long descriptions need the redis or sqlite
// backend.
type TableSlot struct {
	table *aztables.Client
	key   string
}

// NewTableSlot creates a slot in tableName from the given connection string.
func NewTableSlot(connStr, tableName, key string) (*TableSlot, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = DefaultSlotKey
	}
	return &TableSlot{table: svc.NewClient(tableName), key: key}, nil
}

// EnsureTable creates the backing table unless it already exists.
func (t *TableSlot) EnsureTable(ctx context.Context) error {
	_, err := t.table.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

// maxTablePropertyChars is the Azure Table limit for a string property.
const maxTablePropertyChars = 32 * 1024

var errSlotTooLarge = errors.New("task collection exceeds the table property limit")

type slotEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Data         string `json:"Data"`
	Count        int    `json:"Count"`
}

func encodeSlotEntity(key string, tasks []domain.Task) ([]byte, error) {
	data, err := encodeTasks(tasks)
	if err != nil {
		return nil, err
	}
	if n := utf16Len(string(data)); n > maxTablePropertyChars {
		return nil, fmt.Errorf("%w: %d characters, limit %d", errSlotTooLarge, n, maxTablePropertyChars)
	}
	return sonic.Marshal(slotEntity{PartitionKey: key, RowKey: key, Data: string(data), Count: len(tasks)})
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func decodeSlotEntity(raw []byte) ([]domain.Task, error) {
	var ent slotEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptPayload, err)
	}
	return decodeTasks([]byte(ent.Data))
}

func (t *TableSlot) Save(ctx context.Context, tasks []domain.Task) error {
	payload, err := encodeSlotEntity(t.key, tasks)
	if err != nil {
		return domain.NewPersistenceError("save", err)
	}
	_, err = t.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return domain.NewPersistenceError("save", unavailable(err))
	}
	return nil
}

func (t *TableSlot) Load(ctx context.Context) ([]domain.Task, error) {
	ent, err := t.table.GetEntity(ctx, t.key, t.key, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return []domain.Task{}, nil
		}
		return nil, domain.NewPersistenceError("load", unavailable(err))
	}
	tasks, err := decodeSlotEntity(ent.Value)
	if err != nil {
		return nil, domain.NewPersistenceError("load", err)
	}
	return tasks, nil
}
