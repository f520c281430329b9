package models

import (
	"gorm.io/gorm"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

type User struct {
	gorm.Model
	FullName       string `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email          string `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	Role           string `gorm:"column:role;size:50;not null;index" json:"role"`
	Phone          string `gorm:"column:phone;size:20" json:"phone"`
	Specialization string `gorm:"column:specialization;size:255" json:"specialization,omitempty"`
	Bio            string `gorm:"column:bio;type:text" json:"bio,omitempty"`
	Status         string `gorm:"column:status;size:50;not null;default:active" json:"status"`
}

func (u *User) IsDoctor() bool {
	return u.Role == RoleDoctor
}
