// Package mongo implements store.Store on MongoDB with the official
// mongo-driver/v2, and DataAccess, which runs compiled section plans
// against the tenant data collections with Collection.Aggregate.
//
// Records keep their queryable fields as top-level BSON and the full
// record as a JSON document in the "doc" field, so section sources that
// carry operator keys such as "$match" round-trip unchanged. Jobs are
// claimed one by one with FindOneAndUpdate. Locks are documents keyed by
// the lock name: an upsert only matches an expired lock, and a live one
// makes the insert fail on the _id index.
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("reportflow"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
