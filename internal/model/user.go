package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User roles
const (
	RolePatient    = "patient"
	RolePharmacist = "pharmacist"
)

// User represents a user document in MongoDB.
type User struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	UserID       string             `json:"userId" bson:"user_id"`
	Name         string             `json:"name" bson:"name"`
	Email        string             `json:"email" bson:"email"`
	PasswordHash string             `json:"-" bson:"password_hash"`
	Role         string             `json:"role" bson:"role"`
	Avatar       string             `json:"avatar" bson:"avatar"`
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
}
