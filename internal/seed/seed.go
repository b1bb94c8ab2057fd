// Package seed loads a YAML fixture of profiles and tags into a development
// instance running on in-memory stores.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	profilemodels "lifetag/internal/profile/models"
	registrymodels "lifetag/internal/registry/models"
	id "lifetag/pkg/domain"
)

// File is the fixture layout.
//
//	profiles:
//	  - key: alice
//	    owner: 7b0d5c3e-...
//	    pin: "4821"
//	    fields:
//	      - {name: blood_type, value: O-, tier: public}
//	    contacts:
//	      - {name: Sam, kind: email, address: sam@example.com, access_alerts: true}
//	tags:
//	  - {id: BR-1001, profile: alice}
//	  - {id: BR-1002, profile: alice, status: suspended}
//	  - {id: BR-1003}
type File struct {
	Profiles []Profile `yaml:"profiles"`
	Tags     []Tag     `yaml:"tags"`
}

type Profile struct {
	Key      string    `yaml:"key"`
	Owner    string    `yaml:"owner"`
	PIN      string    `yaml:"pin"`
	Fields   []Field   `yaml:"fields"`
	Contacts []Contact `yaml:"contacts"`
}

type Field struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Tier  string `yaml:"tier"`
}

type Contact struct {
	Name         string `yaml:"name"`
	Relationship string `yaml:"relationship"`
	Kind         string `yaml:"kind"`
	Address      string `yaml:"address"`
	AccessAlerts bool   `yaml:"access_alerts"`
}

// Tag is linked to the profile with the matching key. An empty profile
// leaves the tag unlinked; status defaults to active when linked.
type Tag struct {
	ID      string `yaml:"id"`
	Profile string `yaml:"profile"`
	Status  string `yaml:"status"`
}

// ProfileWriter is the subset of the profile service the loader needs.
type ProfileWriter interface {
	Create(ctx context.Context, owner id.AccountID) (*profilemodels.Profile, error)
	SetField(ctx context.Context, owner id.AccountID, profileID id.ProfileID, name, value, tier string) (*profilemodels.Profile, error)
	SetContacts(ctx context.Context, owner id.AccountID, profileID id.ProfileID, contacts []profilemodels.Contact) (*profilemodels.Profile, error)
	SetPIN(ctx context.Context, owner id.AccountID, profileID id.ProfileID, plain string) error
}

// TagWriter is the subset of the registry service the loader needs.
type TagWriter interface {
	Register(ctx context.Context, tagID id.TagID, req registrymodels.Requester) (*registrymodels.Tag, error)
	Link(ctx context.Context, tagID id.TagID, profileID id.ProfileID, req registrymodels.Requester) (*registrymodels.Tag, error)
	SetStatus(ctx context.Context, tagID id.TagID, status registrymodels.Status, req registrymodels.Requester) (*registrymodels.Tag, error)
}

// Result maps fixture keys to the generated profile IDs.
type Result struct {
	Profiles map[string]id.ProfileID
	Tags     int
}

func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &file, nil
}

// Apply writes the fixture through the services so every invariant they
// enforce also holds for seeded data.
func Apply(ctx context.Context, file *File, profiles ProfileWriter, tags TagWriter) (Result, error) {
	res := Result{Profiles: make(map[string]id.ProfileID, len(file.Profiles))}
	owners := make(map[string]id.AccountID, len(file.Profiles))

	for _, sp := range file.Profiles {
		if _, dup := res.Profiles[sp.Key]; dup || sp.Key == "" {
			return res, fmt.Errorf("seed profile key %q is empty or repeated", sp.Key)
		}
		owner, err := id.ParseAccountID(sp.Owner)
		if err != nil {
			return res, fmt.Errorf("seed profile %s: %w", sp.Key, err)
		}
		p, err := profiles.Create(ctx, owner)
		if err != nil {
			return res, fmt.Errorf("seed profile %s: %w", sp.Key, err)
		}
		for _, f := range sp.Fields {
			if _, err := profiles.SetField(ctx, owner, p.ID, f.Name, f.Value, f.Tier); err != nil {
				return res, fmt.Errorf("seed profile %s field %s: %w", sp.Key, f.Name, err)
			}
		}
		if len(sp.Contacts) > 0 {
			contacts := make([]profilemodels.Contact, 0, len(sp.Contacts))
			for _, c := range sp.Contacts {
				contacts = append(contacts, profilemodels.Contact{
					Name:         c.Name,
					Relationship: c.Relationship,
					Kind:         profilemodels.ContactKind(c.Kind),
					Address:      c.Address,
					AccessAlerts: c.AccessAlerts,
				})
			}
			if _, err := profiles.SetContacts(ctx, owner, p.ID, contacts); err != nil {
				return res, fmt.Errorf("seed profile %s contacts: %w", sp.Key, err)
			}
		}
		if sp.PIN != "" {
			if err := profiles.SetPIN(ctx, owner, p.ID, sp.PIN); err != nil {
				return res, fmt.Errorf("seed profile %s pin: %w", sp.Key, err)
			}
		}
		res.Profiles[sp.Key] = p.ID
		owners[sp.Key] = owner
	}

	for _, st := range file.Tags {
		tagID, err := id.ParseTagID(st.ID)
		if err != nil {
			return res, fmt.Errorf("seed tag %q: %w", st.ID, err)
		}
		if _, err := tags.Register(ctx, tagID, registrymodels.SystemRequester()); err != nil {
			return res, fmt.Errorf("seed tag %s: %w", tagID, err)
		}
		res.Tags++
		if st.Profile == "" {
			continue
		}
		profileID, ok := res.Profiles[st.Profile]
		if !ok {
			return res, fmt.Errorf("seed tag %s: unknown profile key %q", tagID, st.Profile)
		}
		owner := registrymodels.AccountRequester(owners[st.Profile], true)
		if _, err := tags.Link(ctx, tagID, profileID, owner); err != nil {
			return res, fmt.Errorf("seed tag %s link: %w", tagID, err)
		}
		if st.Status == "" || st.Status == string(registrymodels.StatusActive) {
			continue
		}
		status, ok := registrymodels.ParseStatus(st.Status)
		if !ok {
			return res, fmt.Errorf("seed tag %s: unknown status %q", tagID, st.Status)
		}
		if _, err := tags.SetStatus(ctx, tagID, status, owner); err != nil {
			return res, fmt.Errorf("seed tag %s status: %w", tagID, err)
		}
	}
	return res, nil
}
