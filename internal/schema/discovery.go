package schema

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Discovery pulls the object and field catalogue from the CRM and mirrors it
// into the metadata tables
type Discovery struct {
	client  crm.Client
	storage storage.Storage
	logger  *logrus.Logger
}

// NewDiscovery creates a catalogue discovery component
func NewDiscovery(client crm.Client, store storage.Storage) *Discovery {
	return &Discovery{
		client:  client,
		storage: store,
		logger:  utils.GetLogger(),
	}
}

// DiscoverObjects fetches the object list and upserts each definition.
// New objects arrive enabled; locally-set enabled flags survive rediscovery
// because the upsert never overwrites them.
func (d *Discovery) DiscoverObjects(ctx context.Context) ([]*models.ObjectDefinition, error) {
	descriptors, err := d.client.ListObjects(ctx)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSchemaFetch, "Failed to list CRM objects", err.Error())
	}

	var defs []*models.ObjectDefinition
	for _, desc := range descriptors {
		def := &models.ObjectDefinition{
			APIName:     desc.APIName,
			DisplayName: desc.DisplayName,
			IsCustom:    desc.IsCustom,
			Enabled:     true,
		}
		if err := d.storage.UpsertObjectDefinition(ctx, def); err != nil {
			return defs, err
		}
		defs = append(defs, def)
	}

	d.logger.WithFields(logrus.Fields{
		"objects": len(defs),
	}).Info("Object catalogue discovered")
	return defs, nil
}

// FetchFields retrieves the field catalogue for one object and converts it
// to field definitions. Fields with an unknown vendor type tag are skipped
// with a warning rather than guessed at.
func (d *Discovery) FetchFields(ctx context.Context, objectAPIName, dialect string) ([]*models.FieldDefinition, error) {
	descriptors, err := d.client.DescribeObject(ctx, objectAPIName)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeSchemaFetch, "Failed to describe CRM object", err.Error())
	}

	var fields []*models.FieldDefinition
	for _, desc := range descriptors {
		fieldType := models.FieldType(desc.FieldType)
		storageType, ok := StorageType(fieldType, dialect)
		if !ok {
			d.logger.WithFields(logrus.Fields{
				"object": objectAPIName,
				"field":  desc.APIName,
				"type":   desc.FieldType,
			}).Warn("Skipping field with unknown vendor type")
			continue
		}

		options := ""
		if len(desc.Options) > 0 {
			data, err := json.Marshal(desc.Options)
			if err != nil {
				return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to encode field options", err.Error())
			}
			options = string(data)
		}

		fields = append(fields, &models.FieldDefinition{
			ObjectAPIName: objectAPIName,
			APIName:       desc.APIName,
			DisplayName:   desc.DisplayName,
			FieldType:     fieldType,
			StorageType:   storageType,
			Required:      desc.Required,
			IsCustom:      desc.IsCustom,
			DefaultValue:  desc.DefaultValue,
			Options:       options,
			Active:        true,
		})
	}
	return fields, nil
}
