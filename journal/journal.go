// Package journal records settled mutations in an Azure Table so failed and
// rolled-back edits can be audited per user.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-client/mutation"
)

const (
	defaultWorkers     = 2
	defaultBuffer      = 256
	defaultPutTimeout  = 10 * time.Second
	anonymousPartition = "anonymous"
)

// Table is the subset of *aztables.Client the journal writes through.
type Table interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
}

var _ Table = (*aztables.Client)(nil)

type entry struct {
	aztables.Entity
	Kind       string  `json:"Kind"`
	ResourceID string  `json:"ResourceId"`
	Seq        int64   `json:"Seq"`
	Op         string  `json:"Op"`
	Status     string  `json:"Status"`
	Error      string  `json:"Error,omitempty"`
	DurationMs float64 `json:"DurationMs"`
}

// Journal is a mutation.Observer. Writes happen on background workers and
// never block or fail the mutation that produced them.
type Journal struct {
	table   Table
	logger  *log.Logger
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	jobs   chan entry
	wg     sync.WaitGroup
}

var _ mutation.Observer = (*Journal)(nil)

// Open connects to tableName, creating it if needed, and starts the writers.
func Open(ctx context.Context, connStr, tableName string, logger *log.Logger) (*Journal, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	client := svc.NewClient(tableName)
	if _, err := client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return nil, fmt.Errorf("create table %s: %w", tableName, err)
		}
	}
	return New(client, logger), nil
}

// New starts a journal writing to table. Entries are partitioned by the
// subject the controller captured when each mutation began.
func New(table Table, logger *log.Logger) *Journal {
	if logger == nil {
		panic("journal.New: logger is nil")
	}
	j := &Journal{
		table:   table,
		logger:  logger,
		timeout: defaultPutTimeout,
		now:     time.Now,
		jobs:    make(chan entry, defaultBuffer),
	}
	for i := 0; i < defaultWorkers; i++ {
		j.wg.Add(1)
		go j.worker()
	}
	return j
}

// Observe queues one outcome. When the buffer is full the outcome is
// dropped with a warning.
func (j *Journal) Observe(_ context.Context, o mutation.Outcome) {
	e := j.entryFor(o)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.logger.WithField("row", e.RowKey).Warn("journal.closed")
		return
	}
	select {
	case j.jobs <- e:
	default:
		j.logger.WithField("row", e.RowKey).Warn("journal.buffer_full")
	}
}

// Close flushes queued entries and stops the writers.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.jobs)
	}
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Journal) entryFor(o mutation.Outcome) entry {
	partition := o.Subject
	if partition == "" {
		partition = anonymousPartition
	}
	e := entry{
		Entity: aztables.Entity{
			PartitionKey: partition,
			// reverse timestamp keeps the newest rows first in a partition scan
			RowKey: fmt.Sprintf("%019d:%s:%d", maxTicks-j.now().UnixNano(), o.Key, o.Seq),
		},
		Kind:       string(o.Key.Kind),
		ResourceID: o.Key.ID,
		Seq:        int64(o.Seq),
		Op:         string(o.Op),
		Status:     string(o.Status),
		DurationMs: float64(o.Duration) / float64(time.Millisecond),
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

const maxTicks = int64(^uint64(0) >> 1)

func (j *Journal) worker() {
	defer j.wg.Done()
	for e := range j.jobs {
		if err := j.put(e); err != nil {
			j.logger.WithError(err).WithFields(log.Fields{
				"partition": e.PartitionKey,
				"row":       e.RowKey,
			}).Error("journal.write")
		}
	}
}

func (j *Journal) put(e entry) error {
	data, err := sonic.ConfigStd.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err = j.table.AddEntity(ctx, data, nil)
	return err
}
