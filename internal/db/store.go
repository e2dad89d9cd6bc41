// exposes a Store interface that is passed to the resolver, the channel
// layer and the API modules; storage technology stays swappable behind it
package db

import (
	"time"

	"github.com/Nixie-Tech-LLC/chorus/internal/model"
	"github.com/jmoiron/sqlx"
)

type Store interface {
	// schedule reads (writes happen in the admin service)
	GetActiveAssignments(nodeID int) ([]model.AssignedSchedule, error)
	GetBlocksForDate(scheduleID int, date time.Time) ([]model.Block, error)

	// node functions
	GetNodeByID(id int) (*model.Node, error)
	GetNodeByName(name string) (*model.Node, error)
	ListNodes() ([]model.Node, error)
	UpdateNodeTelemetry(id int, contentID *int, position, duration *float64, heartbeat time.Time) error
	SetNodeStatus(id int, status string) error
	SetNodeSecret(id int, secretHash string) error
	AssignDeviceIDToNode(id int, deviceID *string) error

	// content functions
	GetContentByID(id int) (*model.Content, error)

	// user functions
	GetUserByID(id int) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
}

type pgStore struct {
	db *sqlx.DB
}

// compile-time check that pgStore implements Store
// required so linter doesn't complain
var _ Store = (*pgStore)(nil)

func NewStore(database *sqlx.DB) Store {
	if database == nil {
		database = DB
	}
	return &pgStore{db: database}
}
