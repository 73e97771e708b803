package sqlite

import "database/sql"

// OutcomeRepository implements storage.OutcomeRepository over one database.
type OutcomeRepository struct {
	*OutcomeReadRepository
	*OutcomeWriteRepository
}

func NewOutcomeRepository(dbConn *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{
		OutcomeReadRepository:  NewOutcomeReadRepository(dbConn),
		OutcomeWriteRepository: NewOutcomeWriteRepository(dbConn),
	}
}
