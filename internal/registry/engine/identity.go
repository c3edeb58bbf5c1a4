package engine

import (
	"context"

	"idregistry/internal/provenance"
	"idregistry/internal/registry/models"
	"idregistry/internal/registry/store"
	"idregistry/pkg/domerrors"
)

// AddIdentity registers a raw identity. When uuid is empty a fresh
// single-identity cluster is created with the identity's own id as its uuid;
// otherwise the identity is attached to the existing cluster.
func (e *Engine) AddIdentity(ctx context.Context, source string, name, email, username *string, uuid string) (*models.Identity, error) {
	if err := validateTerm("source", source); err != nil {
		return nil, err
	}
	if len(source) > models.MaxCharSource {
		return nil, domerrors.New(domerrors.CodeInvalidValue, "%q exceeds %d characters", "source", models.MaxCharSource)
	}
	if !hasContent(name) && !hasContent(email) && !hasContent(username) {
		return nil, domerrors.New(domerrors.CodeInvalidValue, "at least one of name, email or username must be given")
	}
	for field, value := range map[string]*string{"name": name, "email": email, "username": username} {
		if value != nil && len(*value) > models.MaxCharField {
			return nil, domerrors.New(domerrors.CodeInvalidValue, "%q exceeds %d characters", field, models.MaxCharField)
		}
	}

	params := map[string]any{
		"source":   source,
		"name":     name,
		"email":    email,
		"username": username,
		"uuid":     nilIfEmpty(uuid),
	}

	id := models.IdentityID(source, name, email, username)
	identity := &models.Identity{
		ID:       id,
		Name:     name,
		Email:    email,
		Username: username,
		Source:   source,
	}

	err := e.run(ctx, provenance.OpAddIdentity, params, func(ctx context.Context, rec *recorder) error {
		if uuid == "" {
			if _, err := e.store.AddUniqueIdentity(ctx, id); err != nil {
				return err
			}
			identity.UUID = id
			rec.record(provenance.EntityUniqueIdentity, provenance.ChangeAdd)
		} else {
			if _, err := e.store.FindUniqueIdentity(ctx, uuid); err != nil {
				return err
			}
			identity.UUID = uuid
		}
		if err := e.store.AddIdentity(ctx, identity); err != nil {
			return err
		}
		rec.record(provenance.EntityIdentity, provenance.ChangeAdd)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// DeleteIdentity removes a raw identity. When it was the last identity of
// its cluster, the cluster is removed too, profile and enrollments included.
func (e *Engine) DeleteIdentity(ctx context.Context, id string) error {
	if err := validateTerm("id", id); err != nil {
		return err
	}

	params := map[string]any{"id": id}

	return e.run(ctx, provenance.OpDeleteIdentity, params, func(ctx context.Context, rec *recorder) error {
		identity, err := e.store.FindIdentity(ctx, id)
		if err != nil {
			return err
		}
		if err := e.store.DeleteIdentity(ctx, id); err != nil {
			return err
		}
		rec.record(provenance.EntityIdentity, provenance.ChangeDelete)

		uid, err := e.store.FindUniqueIdentity(ctx, identity.UUID)
		if err != nil {
			return err
		}
		if len(uid.Identities) > 0 {
			return nil
		}
		if err := e.store.DeleteUniqueIdentity(ctx, uid.UUID); err != nil {
			return err
		}
		rec.record(provenance.EntityUniqueIdentity, provenance.ChangeDelete)
		rec.record(provenance.EntityProfile, provenance.ChangeDelete)
		if len(uid.Enrollments) > 0 {
			rec.record(provenance.EntityEnrollment, provenance.ChangeDelete)
		}
		return nil
	})
}

// UpdateProfile applies a partial update to a cluster's profile. Nil fields
// are left untouched. Setting gender without an accuracy defaults it to 100;
// an accuracy without a gender is rejected.
func (e *Engine) UpdateProfile(ctx context.Context, uuid string, upd store.ProfileUpdate) (*models.Profile, error) {
	if err := validateTerm("uuid", uuid); err != nil {
		return nil, err
	}
	if upd.GenderAcc != nil {
		if upd.Gender == nil {
			return nil, domerrors.New(domerrors.CodeInvalidValue, "gender_acc can only be set when gender is given")
		}
		if *upd.GenderAcc < 0 || *upd.GenderAcc > 100 {
			return nil, domerrors.New(domerrors.CodeInvalidValue, "gender_acc must be in range [0,100], got %d", *upd.GenderAcc)
		}
	}

	params := map[string]any{
		"uuid":         uuid,
		"name":         upd.Name,
		"email":        upd.Email,
		"gender":       upd.Gender,
		"gender_acc":   upd.GenderAcc,
		"is_bot":       upd.IsBot,
		"country_code": upd.CountryCode,
	}

	var profile *models.Profile
	err := e.run(ctx, provenance.OpUpdateProfile, params, func(ctx context.Context, rec *recorder) error {
		uid, err := e.store.FindUniqueIdentity(ctx, uuid)
		if err != nil {
			return err
		}
		profile = uid.Profile
		if profile == nil {
			profile = &models.Profile{UUID: uuid}
		}

		if upd.CountryCode != nil {
			if _, err := e.store.FindCountry(ctx, *upd.CountryCode); err != nil {
				if domerrors.Is(err, domerrors.CodeNotFound) {
					return domerrors.New(domerrors.CodeInvalidValue, "country code %q does not exist", *upd.CountryCode)
				}
				return err
			}
			profile.CountryCode = upd.CountryCode
		}
		if upd.Name != nil {
			profile.Name = models.StringPtr(*upd.Name)
		}
		if upd.Email != nil {
			profile.Email = models.StringPtr(*upd.Email)
		}
		if upd.Gender != nil {
			profile.Gender = models.StringPtr(*upd.Gender)
			acc := 100
			if upd.GenderAcc != nil {
				acc = *upd.GenderAcc
			}
			if profile.Gender == nil {
				profile.GenderAcc = nil
			} else {
				profile.GenderAcc = &acc
			}
		}
		if upd.IsBot != nil {
			profile.IsBot = *upd.IsBot
		}

		if err := e.store.SaveProfile(ctx, profile); err != nil {
			return err
		}
		rec.record(provenance.EntityProfile, provenance.ChangeUpdate)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// MoveIdentity re-parents one raw identity to another existing cluster. The
// source cluster is removed when the move empties it.
func (e *Engine) MoveIdentity(ctx context.Context, id, toUUID string) error {
	if err := validateTerm("id", id); err != nil {
		return err
	}
	if err := validateTerm("uuid", toUUID); err != nil {
		return err
	}

	params := map[string]any{"id": id, "uuid": toUUID}

	return e.run(ctx, provenance.OpMoveIdentity, params, func(ctx context.Context, rec *recorder) error {
		identity, err := e.store.FindIdentity(ctx, id)
		if err != nil {
			return err
		}
		if _, err := e.store.FindUniqueIdentity(ctx, toUUID); err != nil {
			return err
		}
		if identity.UUID == toUUID {
			return domerrors.New(domerrors.CodeEqualIdentities, "identity %s is already assigned to %s", id, toUUID)
		}

		fromUUID := identity.UUID
		if err := e.store.MoveIdentity(ctx, id, toUUID); err != nil {
			return err
		}
		rec.record(provenance.EntityIdentity, provenance.ChangeUpdate)

		src, err := e.store.FindUniqueIdentity(ctx, fromUUID)
		if err != nil {
			return err
		}
		if len(src.Identities) > 0 {
			return nil
		}
		if err := e.store.DeleteUniqueIdentity(ctx, fromUUID); err != nil {
			return err
		}
		rec.record(provenance.EntityUniqueIdentity, provenance.ChangeDelete)
		rec.record(provenance.EntityProfile, provenance.ChangeDelete)
		if len(src.Enrollments) > 0 {
			rec.record(provenance.EntityEnrollment, provenance.ChangeDelete)
		}
		return nil
	})
}

// MergeIdentities absorbs the cluster fromUUID into toUUID: every raw
// identity and enrollment is re-parented, profile fields missing on the
// target are filled from the source, then the source cluster is deleted.
// The target's uuid and non-null profile fields always survive.
func (e *Engine) MergeIdentities(ctx context.Context, fromUUID, toUUID string) error {
	if err := validateTerm("from_uuid", fromUUID); err != nil {
		return err
	}
	if err := validateTerm("to_uuid", toUUID); err != nil {
		return err
	}
	if fromUUID == toUUID {
		return domerrors.New(domerrors.CodeEqualIdentities, "%s is the same unique identity as %s", fromUUID, toUUID)
	}

	params := map[string]any{"from_uuid": fromUUID, "to_uuid": toUUID}

	return e.run(ctx, provenance.OpMergeIdentities, params, func(ctx context.Context, rec *recorder) error {
		from, err := e.store.FindUniqueIdentity(ctx, fromUUID)
		if err != nil {
			return err
		}
		to, err := e.store.FindUniqueIdentity(ctx, toUUID)
		if err != nil {
			return err
		}

		for _, identity := range from.Identities {
			if err := e.store.MoveIdentity(ctx, identity.ID, toUUID); err != nil {
				return err
			}
			rec.record(provenance.EntityIdentity, provenance.ChangeUpdate)
		}

		for _, enr := range from.Enrollments {
			if err := e.store.DeleteEnrollment(ctx, enr); err != nil {
				return err
			}
			moved := models.Enrollment{
				UUID:         toUUID,
				Organization: enr.Organization,
				Start:        enr.Start,
				End:          enr.End,
			}
			dup, err := e.hasExactEnrollment(ctx, moved)
			if err != nil {
				return err
			}
			if dup {
				rec.record(provenance.EntityEnrollment, provenance.ChangeDelete)
				continue
			}
			if err := e.store.AddEnrollment(ctx, moved); err != nil {
				return err
			}
			rec.record(provenance.EntityEnrollment, provenance.ChangeUpdate)
		}

		merged := mergeProfiles(to.Profile, from.Profile, toUUID)
		if err := e.store.SaveProfile(ctx, merged); err != nil {
			return err
		}
		rec.record(provenance.EntityProfile, provenance.ChangeUpdate)

		if err := e.store.DeleteUniqueIdentity(ctx, fromUUID); err != nil {
			return err
		}
		rec.record(provenance.EntityUniqueIdentity, provenance.ChangeDelete)
		return nil
	})
}

// hasExactEnrollment reports whether the target already holds an enrollment
// with the same organization and exact interval.
func (e *Engine) hasExactEnrollment(ctx context.Context, enr models.Enrollment) (bool, error) {
	existing, err := e.store.SearchEnrollments(ctx, enr.UUID, enr.Organization, enr.Start, enr.End)
	if err != nil {
		return false, err
	}
	for _, cur := range existing {
		if cur.Start.Equal(enr.Start) && cur.End.Equal(enr.End) {
			return true, nil
		}
	}
	return false, nil
}

// mergeProfiles keeps every non-null field of the target and fills the gaps
// from the source. A bot flag set on either side survives.
func mergeProfiles(to, from *models.Profile, uuid string) *models.Profile {
	merged := &models.Profile{UUID: uuid}
	if to != nil {
		*merged = *to
		merged.UUID = uuid
	}
	if from == nil {
		return merged
	}
	if merged.Name == nil {
		merged.Name = from.Name
	}
	if merged.Email == nil {
		merged.Email = from.Email
	}
	if merged.Gender == nil {
		merged.Gender = from.Gender
		merged.GenderAcc = from.GenderAcc
	}
	if merged.CountryCode == nil {
		merged.CountryCode = from.CountryCode
	}
	merged.IsBot = merged.IsBot || from.IsBot
	return merged
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
