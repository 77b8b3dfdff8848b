package db

import (
	"context"

	"paylink-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const uniqueViolationCode = "23505"

const linkColumns = `link_id, customer_email, customer_name, customer_id, invoice_number,
	amount, description, status, created_at, expires_at, completed_at, email_sent_at,
	masked_card_number, processor_customer_id`

// LinkRepository persists payment links in Postgres.
type LinkRepository struct {
	pool *pgxpool.Pool
}

func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

func (r *LinkRepository) Insert(ctx context.Context, link *model.PaymentLink) error {
	query := `INSERT INTO payment_link (` + linkColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.pool.Exec(ctx, query,
		link.LinkID, link.CustomerEmail, link.CustomerName, link.CustomerID, link.InvoiceNumber,
		link.Amount, link.Description, link.Status, link.CreatedAt, link.ExpiresAt,
		link.CompletedAt, link.EmailSentAt, link.MaskedCardNumber, link.ProcessorCustomerID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return model.ErrConflict
	}
	return err
}

func (r *LinkRepository) SelectByID(ctx context.Context, id string) (*model.PaymentLink, error) {
	query := `SELECT ` + linkColumns + ` FROM payment_link WHERE link_id = $1`
	link, err := scanLink(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return link, err
}

func (r *LinkRepository) Update(ctx context.Context, link *model.PaymentLink) error {
	query := `UPDATE payment_link
	          SET customer_email = $2, customer_name = $3, customer_id = $4, invoice_number = $5,
	              amount = $6, description = $7, status = $8, created_at = $9, expires_at = $10,
	              completed_at = $11, email_sent_at = $12, masked_card_number = $13,
	              processor_customer_id = $14
	          WHERE link_id = $1`
	tag, err := r.pool.Exec(ctx, query,
		link.LinkID, link.CustomerEmail, link.CustomerName, link.CustomerID, link.InvoiceNumber,
		link.Amount, link.Description, link.Status, link.CreatedAt, link.ExpiresAt,
		link.CompletedAt, link.EmailSentAt, link.MaskedCardNumber, link.ProcessorCustomerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *LinkRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM payment_link WHERE link_id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LinkRepository) SelectAll(ctx context.Context) ([]*model.PaymentLink, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+linkColumns+` FROM payment_link`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*model.PaymentLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanLink(row pgx.Row) (*model.PaymentLink, error) {
	var link model.PaymentLink
	err := row.Scan(
		&link.LinkID, &link.CustomerEmail, &link.CustomerName, &link.CustomerID, &link.InvoiceNumber,
		&link.Amount, &link.Description, &link.Status, &link.CreatedAt, &link.ExpiresAt,
		&link.CompletedAt, &link.EmailSentAt, &link.MaskedCardNumber, &link.ProcessorCustomerID)
	if err != nil {
		return nil, err
	}
	return &link, nil
}
