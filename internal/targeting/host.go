package targeting

import "context"

// Host is the game engine the registry runs inside.
type Host interface {
	// Session resolves owner to a live session. ok is false when the owner
	// is not connected.
	Session(ctx context.Context, owner OwnerID) (session Session, ok bool)

	// RegionOf returns the region entity currently containing entity. A
	// region contains itself.
	RegionOf(ctx context.Context, entity EntityRef) EntityRef

	// RunCallback executes the externally registered routine named by
	// callback on behalf of owner.
	RunCallback(ctx context.Context, callback string, owner OwnerID) error
}

// Session is a connected player.
type Session interface {
	Owner() OwnerID

	// Region returns the region the player's avatar is in.
	Region() EntityRef

	// Selection returns the payload of the player's most recent capture.
	Selection() Selection

	// EnterTargetingMode restricts the player's next interaction to a single
	// selection of an object matching filter.
	EnterTargetingMode(filter ObjectType) error
}
