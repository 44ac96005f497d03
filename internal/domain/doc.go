// Package domain holds the closed entity types of the emergency response
// core: hospitals, ambulance units and emergencies, with their enums.
package domain
