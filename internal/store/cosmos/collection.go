package cosmos

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

// collection is the slice of a Cosmos container the store uses, with the
// partition key passed as the owner id string.
type collection interface {
	Create(ctx context.Context, partitionKey string, doc []byte) ([]byte, error)
	Read(ctx context.Context, partitionKey, id string) ([]byte, error)
	Replace(ctx context.Context, partitionKey, id string, doc []byte) error
	// ReadVersioned and ReplaceIfMatch carry the document ETag for optimistic writes.
	ReadVersioned(ctx context.Context, partitionKey, id string) ([]byte, azcore.ETag, error)
	ReplaceIfMatch(ctx context.Context, partitionKey, id string, doc []byte, etag azcore.ETag) error
	Delete(ctx context.Context, partitionKey, id string) error
	Query(ctx context.Context, partitionKey, query string, params []azcosmos.QueryParameter) ([][]byte, error)
}

type containerCollection struct {
	client *azcosmos.ContainerClient
}

func (c containerCollection) Create(ctx context.Context, partitionKey string, doc []byte) ([]byte, error) {
	resp, err := c.client.CreateItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), doc,
		&azcosmos.ItemOptions{EnableContentResponseOnWrite: true})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c containerCollection) Read(ctx context.Context, partitionKey, id string) ([]byte, error) {
	resp, err := c.client.ReadItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), id, nil)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c containerCollection) Replace(ctx context.Context, partitionKey, id string, doc []byte) error {
	_, err := c.client.ReplaceItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), id, doc, nil)
	return err
}

func (c containerCollection) ReadVersioned(ctx context.Context, partitionKey, id string) ([]byte, azcore.ETag, error) {
	resp, err := c.client.ReadItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), id, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Value, resp.ETag, nil
}

func (c containerCollection) ReplaceIfMatch(ctx context.Context, partitionKey, id string, doc []byte, etag azcore.ETag) error {
	_, err := c.client.ReplaceItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), id, doc,
		&azcosmos.ItemOptions{IfMatchEtag: &etag})
	return err
}

func (c containerCollection) Delete(ctx context.Context, partitionKey, id string) error {
	_, err := c.client.DeleteItem(ctx, azcosmos.NewPartitionKeyString(partitionKey), id, nil)
	return err
}

func (c containerCollection) Query(ctx context.Context, partitionKey, query string, params []azcosmos.QueryParameter) ([][]byte, error) {
	pager := c.client.NewQueryItemsPager(query, azcosmos.NewPartitionKeyString(partitionKey),
		&azcosmos.QueryOptions{QueryParameters: params})
	var docs [][]byte
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page.Items...)
	}
	return docs, nil
}
