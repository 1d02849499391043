package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"wa_group_ledger_bot/internal/domain"
	"wa_group_ledger_bot/internal/logging"
)

// DateLayout is the calendar-date format persisted for activity and fines.
// Zero-padded dates compare correctly under lexicographic $lt.
const DateLayout = "2006-01-02"

// newFineID is overridable for deterministic tests.
var newFineID = uuid.NewString

// ledgerCollection captures the mongo collection operations the ledger uses,
// allowing hand-rolled fakes in tests.
type ledgerCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Ledger owns the persisted User/Fine/Group/DailyActivity relations. All
// other components mutate ledger state only through its operations; writes on
// the same (phone, group) key serialize through transactional updates.
type Ledger struct {
	users    ledgerCollection
	groups   ledgerCollection
	fines    ledgerCollection
	activity ledgerCollection

	runTxn  func(ctx context.Context, fn func(ctx context.Context) error) error
	nowFunc func() time.Time
	loc     *time.Location
	logger  *logrus.Entry
}

// NewLedger constructs the ledger on top of a connected Manager.
func NewLedger(m *Manager, loc *time.Location, logger *logrus.Entry) *Ledger {
	if logger == nil {
		logger = logging.Logger()
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Ledger{
		users:    m.Users(),
		groups:   m.Groups(),
		fines:    m.Fines(),
		activity: m.DailyActivity(),
		runTxn:   m.RunTransaction,
		nowFunc:  time.Now,
		loc:      loc,
		logger:   logger,
	}
}

func (l *Ledger) ready() error {
	if l == nil || l.users == nil || l.groups == nil || l.fines == nil || l.activity == nil {
		return errors.New("ledger is not initialized")
	}
	return nil
}

func (l *Ledger) now() time.Time {
	return l.nowFunc().In(l.loc)
}

func (l *Ledger) today() string {
	return l.now().Format(DateLayout)
}

// UpsertUser inserts or refreshes the row keyed by (phone, group). The fine
// total is never written here; it is maintained exclusively by AddFine, so a
// replace cannot reset it.
func (l *Ledger) UpsertUser(ctx context.Context, phone, name, groupID string, isAdmin bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if phone == "" || groupID == "" {
		return &domain.ConstraintError{Op: "upsert user", Reason: "phone and group id are required"}
	}

	set := bson.M{
		"is_admin":           isAdmin,
		"last_activity_date": l.today(),
	}
	if name != "" {
		set["name"] = name
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"phone":      phone,
			"group_id":   groupID,
			"total_fine": int64(0),
			"created_at": l.now().UTC().Truncate(time.Millisecond),
		},
	}

	if _, err := l.users.UpdateOne(ctx,
		bson.M{"phone": phone, "group_id": groupID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return &domain.StorageError{Op: "upsert user", Err: err}
	}

	return nil
}

// TouchActivity marks the user active today and increments the daily message
// counter. Both effects commit together or not at all.
func (l *Ledger) TouchActivity(ctx context.Context, phone, groupID string) error {
	if err := l.ready(); err != nil {
		return err
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if phone == "" || groupID == "" {
		return &domain.ConstraintError{Op: "touch activity", Reason: "phone and group id are required"}
	}

	today := l.today()

	err := l.runTxn(ctx, func(txCtx context.Context) error {
		if _, err := l.users.UpdateOne(txCtx,
			bson.M{"phone": phone, "group_id": groupID},
			bson.M{
				"$set": bson.M{"last_activity_date": today},
				"$setOnInsert": bson.M{
					"phone":      phone,
					"group_id":   groupID,
					"total_fine": int64(0),
					"is_admin":   false,
					"created_at": l.now().UTC().Truncate(time.Millisecond),
				},
			},
			options.Update().SetUpsert(true),
		); err != nil {
			return fmt.Errorf("update last activity: %w", err)
		}

		if _, err := l.activity.UpdateOne(txCtx,
			bson.M{"user_phone": phone, "group_id": groupID, "activity_date": today},
			bson.M{
				"$inc": bson.M{"message_count": int64(1)},
				"$setOnInsert": bson.M{
					"user_phone":    phone,
					"group_id":      groupID,
					"activity_date": today,
				},
			},
			options.Update().SetUpsert(true),
		); err != nil {
			return fmt.Errorf("increment daily activity: %w", err)
		}

		return nil
	})
	if err != nil {
		return &domain.StorageError{Op: "touch activity", Err: err}
	}

	return nil
}

// AddFine appends a fine dated today and increments the user's running total
// in the same transaction. Amounts must be positive.
func (l *Ledger) AddFine(ctx context.Context, phone, groupID string, amount int64, reason string) (domain.Fine, error) {
	if err := l.ready(); err != nil {
		return domain.Fine{}, err
	}
	if ctx == nil {
		return domain.Fine{}, errors.New("context is required")
	}
	if amount <= 0 {
		return domain.Fine{}, &domain.ConstraintError{Op: "add fine", Reason: "amount must be greater than 0"}
	}
	if phone == "" || groupID == "" {
		return domain.Fine{}, &domain.ConstraintError{Op: "add fine", Reason: "phone and group id are required"}
	}

	fine := domain.Fine{
		ID:        newFineID(),
		UserPhone: phone,
		GroupID:   groupID,
		Date:      l.today(),
		Amount:    amount,
		Reason:    reason,
		Paid:      false,
		CreatedAt: l.now().UTC().Truncate(time.Millisecond),
	}

	err := l.runTxn(ctx, func(txCtx context.Context) error {
		if _, err := l.fines.InsertOne(txCtx, fine); err != nil {
			return fmt.Errorf("insert fine: %w", err)
		}

		result, err := l.users.UpdateOne(txCtx,
			bson.M{"phone": phone, "group_id": groupID},
			bson.M{"$inc": bson.M{"total_fine": amount}},
		)
		if err != nil {
			return fmt.Errorf("increment total fine: %w", err)
		}
		if result != nil && result.MatchedCount == 0 {
			return fmt.Errorf("increment total fine: %w", domain.ErrNotFound)
		}

		return nil
	})
	if err != nil {
		return domain.Fine{}, &domain.StorageError{Op: "add fine", Err: err}
	}

	l.logger.WithFields(logging.Fields{
		"event":    "fine_recorded",
		"phone":    phone,
		"group_id": groupID,
		"amount":   amount,
	}).Debug("fine recorded")

	return fine, nil
}

// GetInactiveUsers returns the non-admin users of a group whose last activity
// date is unset or strictly older than thresholdDays days before today. A
// user last active exactly at the cutoff date counts as active.
func (l *Ledger) GetInactiveUsers(ctx context.Context, groupID string, thresholdDays int) ([]domain.User, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if thresholdDays < 1 {
		return nil, &domain.ConstraintError{Op: "get inactive users", Reason: "threshold must be at least 1 day"}
	}

	cutoff := l.now().AddDate(0, 0, -thresholdDays).Format(DateLayout)

	filter := bson.M{
		"group_id": groupID,
		"is_admin": false,
		"$or": bson.A{
			bson.M{"last_activity_date": bson.M{"$exists": false}},
			bson.M{"last_activity_date": ""},
			bson.M{"last_activity_date": bson.M{"$lt": cutoff}},
		},
	}

	cursor, err := l.users.Find(ctx, filter)
	if err != nil {
		return nil, &domain.StorageError{Op: "get inactive users", Err: err}
	}

	var users []domain.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, &domain.StorageError{Op: "get inactive users", Err: err}
	}

	return users, nil
}

// GetUserFines returns a user's fines, newest first.
func (l *Ledger) GetUserFines(ctx context.Context, phone, groupID string) ([]domain.Fine, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := l.fines.Find(ctx,
		bson.M{"user_phone": phone, "group_id": groupID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, &domain.StorageError{Op: "get user fines", Err: err}
	}

	var fines []domain.Fine
	if err := cursor.All(ctx, &fines); err != nil {
		return nil, &domain.StorageError{Op: "get user fines", Err: err}
	}

	return fines, nil
}

// GetAllFines aggregates one row per group member with their running total
// and fine count, ordered by total descending with ties broken by creation
// order.
func (l *Ledger) GetAllFines(ctx context.Context, groupID string) ([]domain.FineTotal, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	userCursor, err := l.users.Find(ctx,
		bson.M{"group_id": groupID},
		options.Find().SetSort(bson.D{
			{Key: "total_fine", Value: -1},
			{Key: "created_at", Value: 1},
		}),
	)
	if err != nil {
		return nil, &domain.StorageError{Op: "get all fines", Err: err}
	}

	var users []domain.User
	if err := userCursor.All(ctx, &users); err != nil {
		return nil, &domain.StorageError{Op: "get all fines", Err: err}
	}

	fineCursor, err := l.fines.Find(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return nil, &domain.StorageError{Op: "get all fines", Err: err}
	}

	var fines []domain.Fine
	if err := fineCursor.All(ctx, &fines); err != nil {
		return nil, &domain.StorageError{Op: "get all fines", Err: err}
	}

	counts := make(map[string]int, len(users))
	for _, fine := range fines {
		counts[fine.UserPhone]++
	}

	totals := make([]domain.FineTotal, 0, len(users))
	for _, user := range users {
		totals = append(totals, domain.FineTotal{
			Phone:     user.Phone,
			Name:      user.Name,
			TotalFine: user.TotalFine,
			FineCount: counts[user.Phone],
		})
	}

	return totals, nil
}

// UpsertGroup inserts or refreshes group metadata. Groups start active and
// are never deleted. The bot-admin flag is written only on insert; the gate
// refreshes it afterwards through SetBotAdminStatus.
func (l *Ledger) UpsertGroup(ctx context.Context, groupID, name string, botIsAdmin bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if groupID == "" {
		return &domain.ConstraintError{Op: "upsert group", Reason: "group id is required"}
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"group_id":     groupID,
			"bot_is_admin": botIsAdmin,
			"active":       true,
			"created_at":   l.now().UTC().Truncate(time.Millisecond),
		},
	}
	if name != "" {
		update["$set"] = bson.M{"name": name}
	}

	if _, err := l.groups.UpdateOne(ctx,
		bson.M{"group_id": groupID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return &domain.StorageError{Op: "upsert group", Err: err}
	}

	return nil
}

// SetBotAdminStatus records the bot's admin standing as last observed from
// the roster, creating the group row if needed.
func (l *Ledger) SetBotAdminStatus(ctx context.Context, groupID string, isAdmin bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if groupID == "" {
		return &domain.ConstraintError{Op: "set bot admin status", Reason: "group id is required"}
	}

	update := bson.M{
		"$set": bson.M{"bot_is_admin": isAdmin},
		"$setOnInsert": bson.M{
			"group_id":   groupID,
			"active":     true,
			"created_at": l.now().UTC().Truncate(time.Millisecond),
		},
	}

	if _, err := l.groups.UpdateOne(ctx,
		bson.M{"group_id": groupID},
		update,
		options.Update().SetUpsert(true),
	); err != nil {
		return &domain.StorageError{Op: "set bot admin status", Err: err}
	}

	return nil
}

// GetBotAdminStatus reports the last persisted bot-admin flag. Unknown groups
// report false rather than an error.
func (l *Ledger) GetBotAdminStatus(ctx context.Context, groupID string) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	result := l.groups.FindOne(ctx, bson.M{"group_id": groupID})
	if result == nil {
		return false, &domain.StorageError{Op: "get bot admin status", Err: errors.New("find returned no result")}
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, &domain.StorageError{Op: "get bot admin status", Err: err}
	}

	var group domain.Group
	if err := result.Decode(&group); err != nil {
		return false, &domain.StorageError{Op: "get bot admin status", Err: err}
	}

	return group.BotIsAdmin, nil
}

// ListActiveGroups returns every group still marked active, the iteration
// set for scheduled jobs.
func (l *Ledger) ListActiveGroups(ctx context.Context) ([]domain.Group, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := l.groups.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, &domain.StorageError{Op: "list active groups", Err: err}
	}

	var groups []domain.Group
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, &domain.StorageError{Op: "list active groups", Err: err}
	}

	return groups, nil
}
