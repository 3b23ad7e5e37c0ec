package mongo

import (
	"context"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/bus-seat-reservations/internal/domain"
	"github.com/robertarktes/bus-seat-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("departures"),
		logger: logger,
	}
}

type DepartureDoc struct {
	ID            string    `bson:"_id"`
	Origin        string    `bson:"origin"`
	Destination   string    `bson:"destination"`
	DepartureTime time.Time `bson:"departure_time"`
	ArrivalTime   time.Time `bson:"arrival_time"`
	Capacity      int       `bson:"capacity"`
	PriceCents    int64     `bson:"price_cents"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toDoc(d domain.Departure) DepartureDoc {
	return DepartureDoc{
		ID:            d.ID.String(),
		Origin:        d.Origin,
		Destination:   d.Destination,
		DepartureTime: d.DepartureTime,
		ArrivalTime:   d.ArrivalTime,
		Capacity:      d.Capacity,
		PriceCents:    d.PriceCents,
	}
}

func (doc DepartureDoc) toDomain() (domain.Departure, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return domain.Departure{}, errors.Wrapf(err, "departure id %q", doc.ID)
	}
	return domain.Departure{
		ID:            id,
		Origin:        doc.Origin,
		Destination:   doc.Destination,
		DepartureTime: doc.DepartureTime,
		ArrivalTime:   doc.ArrivalTime,
		Capacity:      doc.Capacity,
		PriceCents:    doc.PriceCents,
	}, nil
}

func (c *CatalogRepository) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "departure_time", Value: 1}}},
		{Keys: bson.D{{Key: "origin", Value: 1}, {Key: "destination", Value: 1}}},
	})
	return err
}

func (c *CatalogRepository) GetDeparture(ctx context.Context, id uuid.UUID) (domain.Departure, error) {
	var doc DepartureDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Departure{}, errors.Wrapf(domain.ErrNotFound, "departure %s", id)
	}
	if err != nil {
		c.logger.WithField("departure_id", id).WithError(err).Error("failed to get departure")
		return domain.Departure{}, err
	}
	return doc.toDomain()
}

// SearchDepartures matches origin and destination as case-insensitive
// substrings, earliest departure first.
func (c *CatalogRepository) SearchDepartures(ctx context.Context, origin, destination string) ([]domain.Departure, error) {
	filter := bson.M{}
	if origin != "" {
		filter["origin"] = bson.M{"$regex": regexp.QuoteMeta(origin), "$options": "i"}
	}
	if destination != "" {
		filter["destination"] = bson.M{"$regex": regexp.QuoteMeta(destination), "$options": "i"}
	}

	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "departure_time", Value: 1}}))
	if err != nil {
		c.logger.WithError(err).Error("failed to search departures")
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []DepartureDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Departure, 0, len(docs))
	for _, doc := range docs {
		d, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *CatalogRepository) CreateDeparture(ctx context.Context, dep domain.Departure) error {
	doc := toDoc(dep)
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.WithField("departure_id", dep.ID).WithError(err).Error("failed to create departure")
		return err
	}
	return nil
}

func (c *CatalogRepository) Ping(ctx context.Context) error {
	return c.coll.Database().Client().Ping(ctx, nil)
}
