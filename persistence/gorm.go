package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentmesh/agent"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// agentRow maps the agents table created by internal/migration.
type agentRow struct {
	TenantID     string `gorm:"primaryKey;size:128"`
	ID           string `gorm:"primaryKey;size:256"`
	AgentType    string `gorm:"size:128;not null;default:''"`
	Status       string `gorm:"size:32;not null"`
	Capabilities string `gorm:"type:text;not null"`
	State        string `gorm:"type:text;not null"`
	Version      int64  `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

func (agentRow) TableName() string { return "agents" }

// capabilityColumn renders names as ",a,b," so a single LIKE finds one name.
func capabilityColumn(names []string) string {
	if len(names) == 0 {
		return ","
	}
	return "," + strings.Join(names, ",") + ","
}

// GormRepository SQL 仓储（PostgreSQL、MySQL、SQLite）
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository wraps an open gorm handle.
func NewGormRepository(db *gorm.DB, logger *zap.Logger) *GormRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormRepository{db: db, logger: logger.With(zap.String("component", "gorm_agent_repository"))}
}

// AutoMigrate creates the agents table without the migration tool. Intended
// for throwaway SQLite databases.
func (g *GormRepository) AutoMigrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&agentRow{})
}

// Save implements AgentRepository.
func (g *GormRepository) Save(ctx context.Context, rec agent.Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	row := agentRow{
		TenantID:     rec.TenantID(),
		ID:           rec.ID(),
		AgentType:    rec.AgentType(),
		Status:       string(rec.Status()),
		Capabilities: capabilityColumn(rec.CapabilityNames()),
		State:        string(data),
		Version:      rec.Version(),
		UpdatedAt:    time.Now().UTC(),
	}
	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"agent_type", "status", "capabilities", "state", "version", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save agent %s: %w", rec.ID(), err)
	}
	return nil
}

// Get implements AgentRepository.
func (g *GormRepository) Get(ctx context.Context, tenantID, agentID string) (agent.Record, error) {
	var row agentRow
	err := g.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, agentID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return agent.Record{}, ErrNotFound
	}
	if err != nil {
		return agent.Record{}, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return decodeRecord([]byte(row.State))
}

// List implements AgentRepository.
func (g *GormRepository) List(ctx context.Context, tenantID string) ([]agent.Record, error) {
	return g.FindByCapabilities(ctx, nil, tenantID)
}

// FindByCapabilities implements AgentRepository.
func (g *GormRepository) FindByCapabilities(ctx context.Context, capabilities []string, tenantID string) ([]agent.Record, error) {
	q := g.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	for _, c := range capabilities {
		q = q.Where("capabilities LIKE ?", "%,"+c+",%")
	}
	var rows []agentRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find agents: %w", err)
	}

	recs := make([]agent.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord([]byte(row.State))
		if err != nil {
			g.logger.Warn("skipping undecodable agent", zap.String("agent_id", row.ID), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	// LIKE treats _ and % in names as wildcards
	return filterByCapabilities(recs, capabilities), nil
}

// Ping checks the underlying connection.
func (g *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
