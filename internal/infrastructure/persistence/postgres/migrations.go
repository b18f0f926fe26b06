package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_directory", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_point_transactions", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_questions", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_question_assignments", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: MODULE AND PARTICIPANT DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Read-only mirror of the course directory; owned by the account/course services.
CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    display_name VARCHAR(100) NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    role VARCHAR(20) NOT NULL DEFAULT 'student',
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_role CHECK (role IN ('student', 'teacher')),
    CONSTRAINT valid_status CHECK (status IN ('active', 'left'))
);

CREATE TABLE IF NOT EXISTS subject_members (
    subject_id TEXT NOT NULL,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    PRIMARY KEY (subject_id, student_id)
);

CREATE TABLE IF NOT EXISTS modules (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    title TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    starts_at TIMESTAMPTZ,
    ends_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_modules_subject ON modules(subject_id, position);
`

const migration001Down = `
DROP TABLE IF EXISTS modules;
DROP TABLE IF EXISTS subject_members;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: POINT LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS point_transactions (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    points INTEGER NOT NULL,
    category VARCHAR(32) NOT NULL,
    reason TEXT NOT NULL,
    related_entity_type TEXT,
    related_entity_id TEXT,
    question_id TEXT,
    module_id TEXT,
    week_number INTEGER NOT NULL DEFAULT 0,
    cap_slot INTEGER,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT non_negative_points CHECK (points >= 0),
    CONSTRAINT valid_category CHECK (category IN (
        'question_creation', 'question_validation', 'question_reparation',
        'test_performance', 'forum_participation', 'project_work', 'other'
    )),
    CONSTRAINT valid_week CHECK (week_number >= 0),
    CONSTRAINT valid_cap_slot CHECK (cap_slot IS NULL OR cap_slot > 0)
);

CREATE INDEX IF NOT EXISTS idx_point_transactions_student ON point_transactions(student_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_point_transactions_unbucketed ON point_transactions(created_at, id) WHERE module_id IS NULL;

-- A capped award occupies one numbered slot; concurrent awards race on this index.
CREATE UNIQUE INDEX IF NOT EXISTS uq_point_transactions_cap_slot
    ON point_transactions(student_id, module_id, category, cap_slot)
    WHERE cap_slot IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS point_transactions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: QUESTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS questions (
    id TEXT PRIMARY KEY,
    module_id TEXT NOT NULL,
    creator_id TEXT NOT NULL,
    text TEXT NOT NULL,
    option_a TEXT NOT NULL,
    option_b TEXT NOT NULL,
    option_c TEXT NOT NULL,
    option_d TEXT NOT NULL,
    correct CHAR(1) NOT NULL,

    validated BOOLEAN,
    validation_comment TEXT,
    validated_by TEXT,
    validated_at TIMESTAMPTZ,

    agreement_agreed BOOLEAN,
    agreement_comment TEXT,
    responded_at TIMESTAMPTZ,

    validated_by_teacher BOOLEAN,
    validated_by_teacher_comment TEXT,
    validated_by_teacher_id TEXT,
    validated_by_teacher_at TIMESTAMPTZ,

    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_correct CHECK (correct IN ('a', 'b', 'c', 'd')),
    CONSTRAINT response_requires_validation CHECK (responded_at IS NULL OR validated_by IS NOT NULL),
    CONSTRAINT no_self_validation CHECK (validated_by IS NULL OR validated_by <> creator_id)
);

CREATE INDEX IF NOT EXISTS idx_questions_module ON questions(module_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_questions_creator ON questions(module_id, creator_id);
`

const migration003Down = `
DROP TABLE IF EXISTS questions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS question_assignments (
    student_id TEXT NOT NULL,
    module_id TEXT NOT NULL,
    week INTEGER NOT NULL,
    question_ids TEXT[] NOT NULL DEFAULT '{}',
    automatic_points INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, module_id, week),
    CONSTRAINT valid_automatic_points CHECK (automatic_points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_question_assignments_module_week ON question_assignments(module_id, week);
`

const migration004Down = `
DROP TABLE IF EXISTS question_assignments;
`
