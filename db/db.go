package db

import (
	"fmt"

	"github.com/KAsare1/teleconsult-server/cmd/config"
	"github.com/KAsare1/teleconsult-server/cmd/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewPSQLStorage opens the postgres pool. Unique violations are translated
// to gorm.ErrDuplicatedKey.
func NewPSQLStorage(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)

	return db, nil
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type migration struct {
	name  string
	model interface{}
}

func migrations() []migration {
	return []migration{
		{"User", &models.User{}},
		{"DoctorAvailability", &models.DoctorAvailability{}},
		{"Call", &models.Call{}},
		{"Appointment", &models.Appointment{}},
		{"Subscription", &models.Subscription{}},
		{"UsageRecord", &models.UsageRecord{}},
		{"Device", &models.Device{}},
		{"NotificationHistory", &models.NotificationHistory{}},
	}
}

// appointmentOverlap keeps live appointments of one doctor from overlapping,
// whether or not their start times line up.
var appointmentOverlap = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`DROP INDEX IF EXISTS idx_appointments_doctor_slot`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'appointments_no_overlap') THEN
			ALTER TABLE appointments ADD CONSTRAINT appointments_no_overlap
				EXCLUDE USING gist (doctor_id WITH =, tstzrange(start_time, end_time) WITH &&)
				WHERE (status <> 'cancelled' AND deleted_at IS NULL);
		END IF;
	END $$`,
}

// activeSubscriptionIndex keeps at most one active subscription per user.
const activeSubscriptionIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
	ON subscriptions (user_id)
	WHERE status = 'active' AND deleted_at IS NULL`

func Migrate(db *gorm.DB, log logrus.FieldLogger) error {
	log.Info("Starting database migrations...")
	for _, m := range migrations() {
		log.Infof("Migrating %s table...", m.name)
		if err := db.AutoMigrate(m.model); err != nil {
			return fmt.Errorf("error migrating %s table: %w", m.name, err)
		}
	}

	for _, stmt := range append(appointmentOverlap, activeSubscriptionIndex) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("error creating constraint: %w", err)
		}
	}
	log.Info("Migrations completed successfully")
	return nil
}

// TableNames lists the tables ClearTables can drop.
func TableNames() []string {
	names := make([]string, 0, len(migrations()))
	for _, m := range migrations() {
		names = append(names, m.name)
	}
	return names
}

// ClearTables drops the named tables, or every table when names is empty.
// Dependents are dropped first.
func ClearTables(db *gorm.DB, log logrus.FieldLogger, names []string) error {
	all := migrations()
	selected := make([]migration, 0, len(all))
	if len(names) == 0 {
		selected = all
	} else {
		byName := make(map[string]migration, len(all))
		for _, m := range all {
			byName[m.name] = m
		}
		for _, n := range names {
			m, ok := byName[n]
			if !ok {
				return fmt.Errorf("unknown table: %s", n)
			}
			selected = append(selected, m)
		}
	}

	for i := len(selected) - 1; i >= 0; i-- {
		m := selected[i]
		if err := db.Migrator().DropTable(m.model); err != nil {
			log.WithError(err).Warnf("Warning dropping table %s", m.name)
			continue
		}
		log.Infof("Table %s dropped", m.name)
	}
	return nil
}
